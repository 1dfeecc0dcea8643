// Package image reads and writes module images.
//
// An image is the magic "LCIM", one format version byte and a zstd frame
// holding a YAML document of the module. Instructions refer to branch
// targets by index and to members by metadata token, so a module survives a
// round trip with its row ids and tokens intact.
package image
