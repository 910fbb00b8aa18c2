package faultdetect

import "camerad/internal/config"

// Config is the engine's resolved configuration: the persisted
// FaultDetectConfig plus the grid/Z-mask data the control server and model
// manifest loader supply separately.
type Config struct {
	config.FaultDetectConfig
	GridRows, GridCols int
	ZTable             ZTable
	BaseMask           Mask
}

// FromPersisted builds an engine Config from the persisted sub-config,
// defaulting the heatmap grid to the 14x28 cell layout §3 documents.
func FromPersisted(c config.FaultDetectConfig, zt ZTable, base Mask) Config {
	return Config{FaultDetectConfig: c, GridRows: 14, GridCols: 28, ZTable: zt, BaseMask: base}
}

func (c Config) strategy() Strategy { return Strategy(c.Strategy) }
