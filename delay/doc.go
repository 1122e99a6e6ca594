// Package delay assembles jobs into dependency graphs and stores them.
//
// A [Delayable] captures one future call: the records, the method name,
// the arguments and the job options. Delayables compose into a [Chain]
// (each element waits for the previous one) or a [Group] (parallel
// siblings), and any node can add dependents with OnDone:
//
//	c := delay.NewClient(store, delay.WithRegistry(reg))
//	export := c.Delayable(partners).Call("export", nil, nil)
//	mail := c.Delayable(partners).Call("send_report", nil, nil)
//	uuids, err := c.Chain(export, mail).Delay(ctx)
//
// Delay walks every graph reachable from the node, builds one job per
// Delayable, links depends_on along the edges and stores the whole graph
// in one transaction. When every node has an identity key already held by
// an outstanding job, nothing is stored and the existing uuids are
// returned.
package delay
