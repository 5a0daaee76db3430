// Package classification derives stage review state and the General (time)
// and Mountain (points) classifications from result rows. Every function is
// a pure fold over its inputs; callers fetch rows and recompute on each read.
package classification
