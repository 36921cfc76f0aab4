// Package l1packets owns Layer 1 (Packets) of the surround-view data model.
//
// Responsibilities: the datagram header, chunking of large messages across
// datagrams, reassembly, and the metadata and frame body codecs. This layer
// produces l2frames values; it never touches calibration or render state.
//
// Datagram layout (big-endian):
//
//	0   magic "SVM1"
//	4   kind      u8   1 = metadata, 2 = frame
//	5   flags     u8
//	6   reserved  u16
//	8   seq       u32
//	12  chunk     u16
//	14  chunks    u16
//	16  payload
//
// Dependency rule: L1 depends only on L2 value types.
package l1packets
