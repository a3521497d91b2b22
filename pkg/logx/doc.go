// Package logx is schedform's structured logger: a small value-type
// wrapper over zerolog whose sinks (a console writer on stderr and an
// optional JSON file) can be swapped while the program runs.
package logx
