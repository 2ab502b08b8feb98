package agent

import (
	"fmt"
	"strings"
)

// NextSteps renders the manual instructions printed when the installer ran
// without a one-time passcode.
func NextSteps(binPath, configPath, logFile, serverURL string) string {
	var b strings.Builder

	b.WriteString("The agent is installed but not registered.\n\n")
	b.WriteString("Next steps:\n")
	b.WriteString("  1. Generate a one-time passcode for this host in the VM Server dashboard.\n")
	fmt.Fprintf(&b, "  2. Register the agent:\n       sudo %s --register --otp <OTP> --server %s --config %s\n",
		binPath, serverURL, configPath)
	fmt.Fprintf(&b, "  3. Start the agent:\n       sudo nohup %s --config %s >> %s 2>&1 &\n",
		binPath, configPath, logFile)
	b.WriteString("\nOr re-run the installer with the passcode:\n")
	fmt.Fprintf(&b, "       vmagent-install <OTP> %s\n", serverURL)

	return b.String()
}
