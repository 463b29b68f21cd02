package shared

import "fmt"

// FineLockKey builds redis keys serialising payment application per fine.
func FineLockKey(fineID int64) string {
	return fmt.Sprintf("payments:fine:%d:lock", fineID)
}
