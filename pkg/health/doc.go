// Package health implements the TCP health checker the Container
// Driver polls while waiting for a freshly started branch's database
// port to become reachable.
package health
