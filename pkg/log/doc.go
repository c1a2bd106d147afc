// Package log provides evstore's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. It is backed by zerolog, writing either
// JSON lines or a human readable console format.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.FormatText),
//	)
//	l = l.With(log.Component("engine"), log.Tenant("acme"))
//	l.Info("commit applied", log.Int("streams", 2))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config (level, format,
// output). ParseLevel accepts debug|info|warn|error.
//
// # Interop
//
// RedirectStdLog routes the standard library logger through a Logger, and
// WatermillAdapter lets watermill publishers log through the same pipeline.
package log
