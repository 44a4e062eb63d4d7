// Package safeguards runs the safeguards pipeline for one service:
// settings, policy loading, snapshot building, concurrent evaluation,
// aggregation, reporting and run history.
//
// The engine never raises the block decision itself. Callers inspect
// Outcome.Report.BlockingError and abort the deployment when it is set:
//
//	out, err := eng.Run(ctx, safeguards.Input{ServicePath: dir, Declaration: decl})
//	if err != nil {
//	    return err
//	}
//	if out.Report != nil && out.Report.BlockingError != nil {
//	    return out.Report.BlockingError
//	}
package safeguards
