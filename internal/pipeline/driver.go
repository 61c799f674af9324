package pipeline

import "fmt"

// Process runs the stage sequence for ctx and returns it. Ordering:
//   - only_render: Decode, then Render if Decode succeeded.
//   - otherwise: Decode, Render?, Crop, EstimateQuality?, Save, in order.
//
// A stage failure stops the sequence; later stages never run and the
// failure site is recorded on ctx (see ProcessingContext.fail). An
// unexpected panic inside a stage is recovered here and blamed on whatever
// stage most recently called appendStage — the stage that was actually
// running when it panicked — so completed_stages keeps ending on the
// stage ErrorStage names even when the panic didn't come from Save.
func Process(ctx *ProcessingContext, encoder ImageEncoder, cropPool CroppedBufferPool) *ProcessingContext {
	defer func() {
		if r := recover(); r != nil {
			stage := StageSave
			if n := len(ctx.CompletedStages); n > 0 {
				stage = ctx.CompletedStages[n-1]
			}
			ctx.fail(stage, fmt.Sprintf("panic: %v", r))
		}
	}()

	Decode(ctx)
	if !ctx.StageSuccess {
		return ctx
	}

	if ctx.OnlyRender {
		if ctx.DoRender {
			Render(ctx)
		}
		return ctx
	}

	if ctx.DoRender {
		Render(ctx)
		if !ctx.StageSuccess {
			return ctx
		}
	}

	Crop(ctx)
	if !ctx.StageSuccess {
		return ctx
	}

	if ctx.Settings.EstimateQuality {
		EstimateQuality(ctx)
		if !ctx.StageSuccess {
			return ctx
		}
	}

	Save(ctx, encoder, cropPool)
	return ctx
}
