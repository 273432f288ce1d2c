// Package saga runs the order, payment and inventory services together over
// one in-process bus and checks the checkout saga end to end.
package saga
