// Package systemd renders the unit file that runs the popwatch authority.
package systemd

import "fmt"

// UnitPath is where init-config --install-systemd writes the unit.
const UnitPath = "/etc/systemd/system/popwatch-authority.service"

// AuthorityUnit returns the unit for the authority server. bin is the
// absolute path of the popwatch binary; user owns ~/.popwatch.
func AuthorityUnit(bin, user string) string {
	return fmt.Sprintf(`[Unit]
Description=popwatch decision authority
After=network.target

[Service]
Type=simple
User=%[2]s
ExecStart=%[1]s serve --audit-log /home/%[2]s/.popwatch/audit.jsonl
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
ReadWritePaths=/home/%[2]s/.popwatch

[Install]
WantedBy=multi-user.target
`, bin, user)
}
