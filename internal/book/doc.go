// Package book defines the domain types and ports shared by the fetch,
// collection and job orchestration subsystems.
package book
