// Package mediatypes defines which files count as images.
//
// It is a dependency-free leaf imported by the scanner (to filter the
// directory walk), the metadata analyzer (to name formats) and the network
// analyzers (to label uploads with a MIME type).
//
// # Extension Sets
//
// DefaultImageExtensions is the allow-list used when none is configured.
// ParseExtensions turns a configured list such as "jpg, .PNG,webp" into an
// ExtensionSet:
//
//	set, err := mediatypes.ParseExtensions(os.Getenv("IMAGE_EXTENSIONS"))
//	if set.Match("holiday.JPG") {
//	    // include in the batch
//	}
//
// # MIME Types
//
// Use GetMimeType to label an image for upload:
//
//	mimeType := mediatypes.GetMimeType(".webp") // "image/webp"
package mediatypes
