package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rtpsmesh/ddscore/internal/config"
	"github.com/rtpsmesh/ddscore/internal/lockfile"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report whether a ddsd daemon holds the domain lock",
	RunE: func(_ *cobra.Command, _ []string) error {
		dir := defaultDomainDir()
		settings := config.Current()

		running, pid := lockfile.TryDaemonLock(dir)

		if jsonOutput {
			fmt.Printf("{\"domain_dir\":%q,\"running\":%v,\"pid\":%d,\"domain_id\":%d}\n",
				dir, running, pid, settings.DomainID)
			return nil
		}

		fmt.Printf("domain directory: %s\n", dir)
		fmt.Printf("configured domain: %d (participant %q)\n", settings.DomainID, settings.ParticipantName)
		if running {
			fmt.Printf("ddsd: running (pid %d)\n", pid)
		} else {
			fmt.Println("ddsd: not running")
		}
		return nil
	},
}

func defaultDomainDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ddscore")
	}
	return filepath.Join(dir, "ddscore")
}
