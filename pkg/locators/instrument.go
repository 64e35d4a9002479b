package locators

import (
	"context"

	"github.com/burrmill/miller/pkg/engine"
	"github.com/burrmill/miller/pkg/telemetry"
)

// Instrument wraps every locator of locs so that each lookup gets a span,
// a lookup metric and a debug log line. Nil locators stay nil.
func Instrument(locs engine.Locators, tel *telemetry.Telemetry) engine.Locators {
	if tel == nil {
		return locs
	}
	return engine.Locators{
		Image:   instrument(engine.KindImage, locs.Image, tel),
		Builder: instrument(engine.KindBuilder, locs.Builder, tel),
		Tar:     instrument(engine.KindTar, locs.Tar, tel),
	}
}

func instrument(kind engine.Kind, l engine.Locator, tel *telemetry.Telemetry) engine.Locator {
	if l == nil {
		return nil
	}
	k := kind.String()
	return engine.LocatorFunc(func(ctx context.Context, name, version string) (string, bool, error) {
		ctx, span := tel.Tracer.StartLookupSpan(ctx, k, name, version)
		defer span.End()
		timer := telemetry.NewTimer()

		res, found, err := l.Locate(ctx, name, version)

		result := telemetry.LookupNotFound
		switch {
		case err != nil:
			result = telemetry.LookupError
			telemetry.RecordError(span, err)
		case found:
			result = telemetry.LookupFound
			telemetry.RecordSuccess(span)
		default:
			telemetry.RecordSuccess(span)
		}
		span.SetAttributes(telemetry.AttrLookupResult.String(result))
		tel.Metrics.RecordLookup(k, result, timer.Duration())

		zl := tel.Logger.Zerolog()
		zl.Debug().
			Str("kind", k).
			Str("name", name).
			Str("version", version).
			Str("result", result).
			Dur("elapsed", timer.Duration()).
			Msg("artifact lookup")
		return res, found, err
	})
}
