// Package batch groups jobs delayed together so their progress can be
// followed as one unit.
//
// A [Batch] is created in draft, every job of the group carries its id in
// job.Job.BatchID, and the batch moves to enqueued once the jobs are
// stored. After each job outcome the executor calls [Service.CheckState]:
//
//	draft → enqueued → progress → finished
//
// enqueued becomes progress as soon as one job left pending or enqueued;
// progress becomes finished when every job is done. Failed jobs keep the
// batch in progress until an operator requeues or marks them done.
package batch
