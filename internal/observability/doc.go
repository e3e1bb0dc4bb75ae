// Package observability records session and turn events as JSON Lines and
// derives augmentation metrics and quality alerts from them on demand.
package observability
