// Package protocol implements the length-prefixed frame sent for each audio
// chunk and the JSON text results received in return.
package protocol
