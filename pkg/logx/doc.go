// Package logx provides a small structured logging facade over zerolog
// with runtime-reconfigurable sinks (console and file).
//
// Loggers created from a Service stay live across config reloads.
package logx
