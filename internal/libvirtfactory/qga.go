package libvirtfactory

import (
	"encoding/json"
	"fmt"

	"github.com/digitalocean/go-libvirt"
)

// qgaGuestExecTimeout bounds how long libvirt waits for the qemu guest
// agent to answer a single command, in seconds.
const qgaGuestExecTimeout = 5

type qgaExecRequest struct {
	Execute   string      `json:"execute"`
	Arguments qgaExecArgs `json:"arguments"`
}

type qgaExecArgs struct {
	Path          string   `json:"path"`
	Arg           []string `json:"arg,omitempty"`
	CaptureOutput bool     `json:"capture-output,omitempty"`
	PID           int      `json:"pid,omitempty"`
}

type qgaExecResponse struct {
	Return struct {
		PID int `json:"pid"`
	} `json:"return"`
}

type qgaExecStatusResponse struct {
	Return struct {
		Exited   bool `json:"exited"`
		ExitCode int  `json:"exitcode"`
	} `json:"return"`
}

// guestFileExists runs `test -e path` inside the guest via the qemu
// guest agent's guest-exec/guest-exec-status commands and reports
// whether it exited zero. A guest agent error (not yet installed,
// domain not running) is treated as "not yet", not a hard failure.
func guestFileExists(client domainClient, domain libvirt.Domain, path string) (bool, error) {
	execReq := qgaExecRequest{
		Execute: "guest-exec",
		Arguments: qgaExecArgs{
			Path: "/usr/bin/test",
			Arg:  []string{"-e", path},
		},
	}
	reqBody, err := json.Marshal(execReq)
	if err != nil {
		return false, err
	}

	raw, err := client.DomainQemuAgentCommand(domain, string(reqBody), qgaGuestExecTimeout, 0)
	if err != nil {
		return false, nil
	}
	var execResp qgaExecResponse
	if err := json.Unmarshal([]byte(raw), &execResp); err != nil {
		return false, err
	}

	statusReq, err := json.Marshal(map[string]any{
		"execute":   "guest-exec-status",
		"arguments": map[string]int{"pid": execResp.Return.PID},
	})
	if err != nil {
		return false, err
	}
	raw, err = client.DomainQemuAgentCommand(domain, string(statusReq), qgaGuestExecTimeout, 0)
	if err != nil {
		return false, nil
	}
	var statusResp qgaExecStatusResponse
	if err := json.Unmarshal([]byte(raw), &statusResp); err != nil {
		return false, err
	}
	return statusResp.Return.Exited && statusResp.Return.ExitCode == 0, nil
}

// guestExec runs path+args inside the guest via the qemu guest agent,
// without waiting for or reporting its exit status. Used for fire-and-
// forget guest-side lifecycle hooks (e.g. halting sshd before a reboot).
func guestExec(client domainClient, domain libvirt.Domain, path string, args []string) error {
	req := qgaExecRequest{
		Execute:   "guest-exec",
		Arguments: qgaExecArgs{Path: path, Arg: args},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := client.DomainQemuAgentCommand(domain, string(body), qgaGuestExecTimeout, 0); err != nil {
		return fmt.Errorf("libvirtfactory: guest-exec %s: %w", path, err)
	}
	return nil
}
