package pg

import "strings"

// PublishTables/PublishFunctions hold the optional allow/deny shape of
// auto_publish's `tables`/`functions` sub-config (nil means "not
// explicitly configured").
type PublishTables struct {
	FromSchemas []string
	SourceIDFormat string // may contain {schema}, {table}, {column}
	IDColumns   []string
}

type PublishFunctions struct {
	FromSchemas []string
	SourceIDFormat string // may contain {schema}, {function}
}

// AutoPublish mirrors the `auto_publish: bool | {tables, functions}`
// config shape.
type AutoPublish struct {
	Enabled   *bool // nil = unset
	Tables    *PublishTables
	Functions *PublishFunctions
}

// ResolvedPublish is what ResolvePublish computes: whether tables and/or
// functions auto-discovery should run, and the settings to run it with.
type ResolvedPublish struct {
	PublishTables   bool
	PublishFunctions bool
	Tables          PublishTables
	Functions       PublishFunctions
}

const (
	defaultTableSourceIDFormat    = "{schema}.{table}"
	defaultFunctionSourceIDFormat = "{schema}.{function}"
)

// ResolvePublish applies the auto_publish truth table:
//   - if neither tables nor functions is configured and Enabled is nil,
//     enable both with default settings;
//   - if Enabled is explicitly false, nothing is published;
//   - if Enabled is explicitly true, both are published unless a side
//     has its own explicit sub-config overriding defaults;
//   - if one side (tables or functions) has an explicit sub-config, the
//     other is disabled unless it also has one or Enabled is true.
func ResolvePublish(cfg AutoPublish) ResolvedPublish {
	hasTablesCfg := cfg.Tables != nil
	hasFunctionsCfg := cfg.Functions != nil

	var out ResolvedPublish
	switch {
	case cfg.Enabled == nil && !hasTablesCfg && !hasFunctionsCfg:
		out.PublishTables = true
		out.PublishFunctions = true
	case cfg.Enabled != nil && !*cfg.Enabled:
		// explicitly disabled; nothing published regardless of sub-config presence
	case cfg.Enabled != nil && *cfg.Enabled:
		out.PublishTables = true
		out.PublishFunctions = true
	default:
		// Enabled is nil but at least one side has explicit sub-config:
		// only the configured side(s) are enabled.
		out.PublishTables = hasTablesCfg
		out.PublishFunctions = hasFunctionsCfg
	}

	if hasTablesCfg {
		out.Tables = *cfg.Tables
	}
	if out.Tables.SourceIDFormat == "" {
		out.Tables.SourceIDFormat = defaultTableSourceIDFormat
	}
	if hasFunctionsCfg {
		out.Functions = *cfg.Functions
	}
	if out.Functions.SourceIDFormat == "" {
		out.Functions.SourceIDFormat = defaultFunctionSourceIDFormat
	}
	return out
}

// FormatTableSourceID substitutes {schema}/{table}/{column} into format.
func FormatTableSourceID(format string, t TableInfo) string {
	r := strings.NewReplacer(
		"{schema}", t.Schema,
		"{table}", t.Table,
		"{column}", t.GeometryColumn,
	)
	return r.Replace(format)
}

// FormatFunctionSourceID substitutes {schema}/{function} into format.
func FormatFunctionSourceID(format string, f FunctionInfo) string {
	r := strings.NewReplacer(
		"{schema}", f.Schema,
		"{function}", f.Function,
	)
	return r.Replace(format)
}
