// Package hostfunc provides the host-side bindings exposed to guest code.
//
// # Overview
//
// Guests never receive raw host capabilities. Each binding is a named
// function in a Registry; language adapters install thin guest-side shims
// that forward to these functions and marshal the results back into guest
// values.
//
// The two binding families are the virtual network proxy (NetProxy), which
// mediates all guest HTTP traffic through the egress filter, and the
// per-function platform handle (Platform), which bundles the resource
// bindings a function owns.
package hostfunc
