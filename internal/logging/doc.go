// Package logging provides structured logging on top of Zap.
//
// Loggers add correlation fields from context (trace_id, user.id,
// operation, request.id), redact sensitive keys and values at the encoder,
// and sample below Error. Console output goes to stderr; an OpenTelemetry
// log provider can be attached as a second sink.
//
//	cfg, _ := logging.FromSettings("info", "json")
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithUserID(ctx, "u1")
//	logger.Info(ctx, "document ingested", zap.Int("chunks", 3))
//
// Tests use NewTestLogger and its Assert helpers.
package logging
