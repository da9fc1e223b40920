package common

import (
	"fmt"

	"github.com/relaydog/mtasession/inet"
	"github.com/relaydog/mtasession/misc"
)

var (
	SMTPDStats = misc.NewStats()
	LMTPDStats = misc.NewStats()
)

// GetLatestStats returns statistic information from the listeners in a piece of multi-line, formatted text.
func GetLatestStats() string {
	numDecimals := 2
	factor := 1000000000.0
	return fmt.Sprintf(`SMTP server:              %s
LMTP server:              %s
Mail to deliver:          %d KiloBytes
`,
		SMTPDStats.Format(factor, numDecimals),
		LMTPDStats.Format(factor, numDecimals),
		inet.OutstandingMailBytes/1024)
}
