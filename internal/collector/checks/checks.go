package checks

import (
	"time"

	"github.com/sqlhealthpro/sqlhealthpro/internal/collector"
	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

// All 返回全部内置检查项（注册顺序与汇总权重表一致）
func All() []collector.Check {
	return []collector.Check{
		&BackupsCheck{},
		&AlwaysOnCheck{},
		&LogChainCheck{},
		&DatabaseStatesCheck{},
		&CPUCheck{},
		&MemoryCheck{},
		&IOCheck{},
		&DisksCheck{},
		&CriticalErrorsCheck{},
		&MaintenanceCheck{},
		&TempDBCheck{},
		&AutogrowthCheck{},
		&WaitsCheck{},
	}
}

// snapshotBase 填充快照公共字段
func snapshotBase(target *inventory.Target, score int) model.SnapshotBase {
	return model.SnapshotBase{
		InstanceName: target.Name,
		Environment:  target.Environment,
		HostingSite:  target.HostingSite,
		CollectedAt:  time.Now(),
		Score:        score,
	}
}
