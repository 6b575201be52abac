package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/codexmem/internal/app"
	"github.com/dotcommander/codexmem/internal/output"
	"github.com/dotcommander/codexmem/internal/store"
)

// NewDoctorCmd checks configuration, database, and worker health.
func NewDoctorCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database, and worker health",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := app.DataDir()
			if err != nil {
				return cmdErr(err)
			}
			cfg := app.LoadConfig()

			var (
				settingsOK  = true
				settingsErr string
			)
			if _, err := app.LoadSettings(); err != nil {
				settingsOK = false
				settingsErr = err.Error()
			}

			var (
				dbOK          bool
				dbErr         string
				queryOK       bool
				queryErr      string
				schemaCurrent int64
				schemaLatest  int64
			)
			dbPath, err := app.DBPath()
			if err != nil {
				return cmdErr(err)
			}
			db, err := store.Open(dbPath)
			if err != nil {
				dbErr = err.Error()
			} else {
				dbOK = true
				defer db.Close()

				var one int
				if err := db.QueryRow("SELECT 1").Scan(&one); err != nil {
					queryErr = err.Error()
				} else {
					queryOK = true
				}
				if cur, latest, err := store.SchemaVersion(db); err == nil {
					schemaCurrent, schemaLatest = cur, latest
				}
			}

			workerRunning, workerPort := app.WorkerAlive()
			workerHealthy := workerRunning && workerReachable(workerBaseURL(cmd))

			type resp struct {
				Version       string `json:"version"`
				DataDir       string `json:"data_dir"`
				DBPath        string `json:"db_path"`
				DBOK          bool   `json:"db_ok"`
				DBErr         string `json:"db_error,omitempty"`
				QueryOK       bool   `json:"query_ok"`
				QueryErr      string `json:"query_error,omitempty"`
				SchemaCurrent int64  `json:"schema_current"`
				SchemaLatest  int64  `json:"schema_latest"`
				SettingsOK    bool   `json:"settings_ok"`
				SettingsErr   string `json:"settings_error,omitempty"`
				Provider      string `json:"provider"`
				VectorEnabled bool   `json:"vector_enabled"`
				WorkerRunning bool   `json:"worker_running"`
				WorkerPort    int    `json:"worker_port,omitempty"`
				WorkerHealthy bool   `json:"worker_healthy"`
				Hint          string `json:"hint,omitempty"`
			}

			hint := ""
			switch {
			case !dbOK:
				hint = "If this is running in a sandboxed environment, set a writable location via --data-dir."
			case schemaCurrent < schemaLatest:
				hint = "Database schema is behind; starting the worker applies pending migrations."
			case !workerRunning:
				hint = "No worker is running; start one with `codexmem worker`."
			case workerRunning && !workerHealthy:
				hint = "A worker pid file exists but the worker is not answering; it may have crashed."
			}

			return output.PrintSuccess(resp{
				Version:       version,
				DataDir:       dataDir,
				DBPath:        dbPath,
				DBOK:          dbOK,
				DBErr:         dbErr,
				QueryOK:       queryOK,
				QueryErr:      queryErr,
				SchemaCurrent: schemaCurrent,
				SchemaLatest:  schemaLatest,
				SettingsOK:    settingsOK,
				SettingsErr:   settingsErr,
				Provider:      cfg.Provider,
				VectorEnabled: cfg.VectorEnabled,
				WorkerRunning: workerRunning,
				WorkerPort:    workerPort,
				WorkerHealthy: workerHealthy,
				Hint:          hint,
			})
		},
	}
}
