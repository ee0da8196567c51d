package logger

import (
	"slices"

	"go.uber.org/zap/zapcore"
)

// DBCore is a custom Zap Core that tees every entry it accepts into the
// async DB writer.
type DBCore struct {
	zapcore.Core
	writer *DBLogWriter
	fields []zapcore.Field
}

// NewDBCore wraps an existing core (like console logger) and adds DB logging
func NewDBCore(baseCore zapcore.Core, writer *DBLogWriter) zapcore.Core {
	return &DBCore{
		Core:   baseCore,
		writer: writer,
	}
}

// With keeps the DB tee on child loggers and remembers their fields so a
// logger.With(zap.String("tenant_id", ...)) still tags the stored entry.
func (c *DBCore) With(fields []zapcore.Field) zapcore.Core {
	return &DBCore{
		Core:   c.Core.With(fields),
		writer: c.writer,
		fields: append(slices.Clone(c.fields), fields...),
	}
}

// Write is called for every log entry
func (c *DBCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	var tenantID, permitID string
	for _, f := range slices.Concat(c.fields, fields) {
		if f.Type != zapcore.StringType {
			continue
		}
		switch f.Key {
		case "tenant_id":
			tenantID = f.String
		case "permit_id":
			permitID = f.String
		}
	}

	c.writer.AddLog(LogEntry{
		Level:    entry.Level,
		Message:  entry.Message,
		Caller:   entry.Caller.Function, // needs AddCaller
		TenantID: tenantID,
		PermitID: permitID,
	})

	return c.Core.Write(entry, fields)
}

// Check decides if we should log this level
func (c *DBCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}
