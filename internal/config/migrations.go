package config

import "tools.zach/dev/psnwatch/internal/migrate"

// v1Renames maps the flag-style keys of schema version 1 to their version 2
// locations.
var v1Renames = map[string]string{
	"psn.check_interval":                  "monitor.check_interval_seconds",
	"psn.active_check_interval":           "monitor.active_check_interval_seconds",
	"psn.offline_interrupt":               "monitor.offline_interrupt_seconds",
	"notify.status_notification":          "notify.status",
	"notify.game_change_notification":     "notify.game_change",
	"notify.active_inactive_notification": "notify.active_inactive",
	"notify.error_notification":           "notify.errors",
	"csv_file":                            "csv.file",
}

func init() {
	migrate.Config.Register(migrate.Migration{
		Version:     2,
		Description: "move poll settings to [monitor] and rename notification keys",
		Upgrade:     upgradeV2,
	})
}

func upgradeV2(data []byte) ([]byte, error) {
	out, err := migrate.MoveKeys(data, v1Renames)
	if err != nil {
		return nil, err
	}
	return migrate.SetKey(out, "version", 2)
}
