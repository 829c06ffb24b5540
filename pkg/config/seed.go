package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/stationrt/station/pkg/types"
)

// SeedRow is one line of an optional cluster seed file: station_id, host,
// port, an optional user column and an optional role column, used to bootstrap the master's
// registry on first start without waiting for every worker to heartbeat in.
type SeedRow struct {
	StationID string
	Host      string
	Port      int
	Role      types.Role
}

// LoadSeedFile parses a tab-separated seed file (station_id, host, port,
// [user,] role). Role is read from the last column of rows with four or
// more columns. A missing path is not an error. Malformed rows are skipped.
func LoadSeedFile(path string) ([]SeedRow, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening cluster seed file: %w", err)
	}
	defer f.Close()

	var rows []SeedRow
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			continue // header row or malformed entry
		}
		role := types.RoleWorker
		if len(fields) > 3 && types.Role(fields[len(fields)-1]) == types.RoleMaster {
			role = types.RoleMaster
		}
		rows = append(rows, SeedRow{StationID: fields[0], Host: fields[1], Port: port, Role: role})
	}
	return rows, scanner.Err()
}
