// Package message records the failure notices posted on failed jobs.
//
// When a job ends in failed the executor calls [Service.PostFailure]. The
// [Message] keeps the exception name and text with the job's description,
// addressed to the queue managers. Messages can be listed, marked read and
// purged once they are older than the retention window.
package message
