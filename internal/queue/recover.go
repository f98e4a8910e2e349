package queue

import (
	"time"

	"go-stash-downloader/internal/models"
)

// DefaultStaleAfter is how old an in-flight item may be before recovery demotes it.
const DefaultStaleAfter = 15 * time.Minute

// InterruptedMessage is stored on items demoted by Recover.
const InterruptedMessage = "Download was interrupted. Click retry to try again."

// Recover reconciles items that were in flight when the process stopped. Downloading or
// Processing items that started more than staleAfter ago (or have no start time) go back
// to Pending with an error; younger ones keep their status but lose their progress.
func Recover(items []models.QueueItem, now time.Time, staleAfter time.Duration) []models.QueueItem {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	out := items
	for _, it := range items {
		if !it.Status.Active() {
			continue
		}
		var update func(models.QueueItem) models.QueueItem
		if it.StartedAt == nil || now.Sub(*it.StartedAt) > staleAfter {
			update = func(item models.QueueItem) models.QueueItem {
				item = Patch{
					Status:        Ptr(models.StatusPending),
					Error:         Ptr(InterruptedMessage),
					ClearProgress: true,
				}.Apply(item)
				return WithLog(models.LevelWarning, InterruptedMessage, now)(item)
			}
		} else {
			update = Patch{ClearProgress: true}.Apply
		}
		out = Reduce(out, Action{Kind: ActionUpdate, ID: it.ID, Update: update})
	}
	return out
}
