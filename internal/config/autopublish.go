package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tileserv/tileserv/internal/pg"
)

// UnmarshalYAML accepts auto_publish as either a bare bool or an object
// with tables/functions sub-configs, matching martin's YAML shape.
func (a *AutoPublishConfig) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := value.Decode(&b); err != nil {
			return fmt.Errorf("auto_publish: %w", err)
		}
		a.Enabled = &b
		return nil
	case yaml.MappingNode:
		var obj struct {
			Tables    *PublishTablesConfig    `yaml:"tables"`
			Functions *PublishFunctionsConfig `yaml:"functions"`
		}
		if err := value.Decode(&obj); err != nil {
			return fmt.Errorf("auto_publish: %w", err)
		}
		a.Tables = obj.Tables
		a.Functions = obj.Functions
		return nil
	default:
		return fmt.Errorf("auto_publish: expected a bool or a mapping, got %v", value.Kind)
	}
}

// ToPgAutoPublish converts the YAML-shaped config into the
// internal/pg.AutoPublish struct ResolvePublish consumes. A nil cfg
// (auto_publish absent from the file entirely) maps to the all-nil
// struct, which ResolvePublish's truth table treats as "enable both
// with defaults".
func ToPgAutoPublish(cfg *AutoPublishConfig) pg.AutoPublish {
	if cfg == nil {
		return pg.AutoPublish{}
	}
	out := pg.AutoPublish{Enabled: cfg.Enabled}
	if cfg.Tables != nil {
		out.Tables = &pg.PublishTables{
			FromSchemas:    cfg.Tables.FromSchemas,
			SourceIDFormat: cfg.Tables.SourceIDFormat,
			IDColumns:      cfg.Tables.IDColumns,
		}
	}
	if cfg.Functions != nil {
		out.Functions = &pg.PublishFunctions{
			FromSchemas:    cfg.Functions.FromSchemas,
			SourceIDFormat: cfg.Functions.SourceIDFormat,
		}
	}
	return out
}
