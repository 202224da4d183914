// Package bulk implements the DC-net bulk transmission round: descriptor
// generation and parsing, XOR-mask generation and distribution, aggregation
// (with an application-broadcast leader optimization), and the blame
// subprotocol that localizes a corrupted contribution after a hash fault.
package bulk
