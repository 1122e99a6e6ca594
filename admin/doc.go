// Package admin implements the operator actions on stored jobs: requeue,
// set done, cancel, cascade-cancel and the autovacuum of old done and
// cancelled jobs.
//
// Actions take job uuids and skip, without failing, the jobs whose state
// does not allow the change; the Result tells which were changed.
package admin
