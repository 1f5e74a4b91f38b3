// Package types defines the shared data model: the persisted desired set,
// observed child state and the wire types of the control API.
package types
