// Package slots holds the latest-wins chat buffer.
//
// Chat lines beginning with a recognized prefix ("P1:" or "P2:" by default)
// are classified into one of two slots. The Store keeps, per slot, the most
// recent payload of each author until a delivery of that payload is
// confirmed. Snapshots are deep copies taken under the store lock, so the
// flush path can serialize and send them without holding the lock.
package slots
