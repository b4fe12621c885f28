// Package conv provides checked integer conversions for values read from
// checkpoint images.
package conv
