// Package cim holds the network model objects: conducting equipment and the
// terminals they own, the connectivity nodes terminals plug into, wire and
// asset information, metering, and customer agreements.
//
// Ownership runs one way. Equipment owns its terminals; a terminal keeps a
// set-once back link to its equipment and a weak link to its connectivity
// node, so holding a single terminal never keeps the rest of a released
// network reachable.
package cim
