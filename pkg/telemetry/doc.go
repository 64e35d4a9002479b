// Package telemetry provides logging, tracing and metrics for miller.
//
// Logging uses zerolog and always goes to standard error or a file, since
// standard output is reserved for build directives. The console format is
// colored only when writing to a terminal.
//
// Tracing uses OpenTelemetry. The default exporter is "none"; "stdout"
// pretty-prints spans to the log output and "otlp" sends them to a gRPC
// collector.
//
// Metrics are Prometheus collectors in a private registry, written once at
// exit to a file for the node exporter textfile collector:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	op := telemetry.StartOperation(tel.WithContext(ctx), "plan.build")
//	err = doWork(op.Ctx)
//	op.End(err)
package telemetry
