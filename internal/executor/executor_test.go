package executor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/invoker"
	"github.com/ordinaut/ordinaut/internal/value"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_SimpleSuccess(t *testing.T) {
	ex := New(invoker.NewSimulating(), silentLogger())

	pipeline := domain.Pipeline{
		Params: value.Object(map[string]value.Value{"city": value.Str("Chisinau")}),
		Steps: []domain.Step{
			{ID: "a", Uses: "echo", With: value.Object(map[string]value.Value{"text": value.Str("hi")}), SaveAs: "a"},
		},
	}

	ctx, verdict := ex.Run(context.Background(), pipeline, time.Now(), value.Null())
	require.NoError(t, verdict.Err)
	assert.True(t, verdict.Success)

	steps := ctx.Get("steps")
	out := steps.Get("a")
	ok, _ := out.Get("ok").AsBool()
	assert.True(t, ok)
}

func TestRun_ConditionSkipsStep(t *testing.T) {
	ex := New(invoker.NewSimulating(), silentLogger())

	pipeline := domain.Pipeline{
		Params: value.Object(nil),
		Steps: []domain.Step{
			{ID: "w", Uses: "weather", SaveAs: "w", With: value.Object(map[string]value.Value{
				"temp": value.Num(15),
			})},
			{ID: "alert", Uses: "notify", If: "steps.w.ok == false", SaveAs: "alert"},
		},
	}

	ctx, verdict := ex.Run(context.Background(), pipeline, time.Now(), value.Null())
	require.NoError(t, verdict.Err)
	assert.True(t, verdict.Success)

	steps := ctx.Get("steps")
	assert.True(t, steps.Get("alert").IsNull())
}

type fakeInvoker struct {
	calls int
	fail  int
}

func (f *fakeInvoker) Invoke(ctx context.Context, address string, args value.Value, timeout time.Duration) (value.Value, error) {
	f.calls++
	if f.calls <= f.fail {
		return value.Null(), &invoker.InvocationError{Address: address, Retryable: true, Cause: context.DeadlineExceeded}
	}
	return value.Object(map[string]value.Value{"ok": value.Bool(true)}), nil
}

func TestRun_StepRetriesThenSucceeds(t *testing.T) {
	fi := &fakeInvoker{fail: 1}
	ex := New(fi, silentLogger())

	pipeline := domain.Pipeline{
		Params: value.Object(nil),
		Steps: []domain.Step{
			{ID: "a", Uses: "flaky", MaxRetries: 2, SaveAs: "a"},
		},
	}

	_, verdict := ex.Run(context.Background(), pipeline, time.Now(), value.Null())
	require.NoError(t, verdict.Err)
	assert.Equal(t, 2, fi.calls)
}

func TestRun_PermanentToolErrorAborts(t *testing.T) {
	fi := &fakeInvokerPermanent{}
	ex := New(fi, silentLogger())

	pipeline := domain.Pipeline{
		Steps: []domain.Step{
			{ID: "a", Uses: "bad"},
		},
	}

	_, verdict := ex.Run(context.Background(), pipeline, time.Now(), value.Null())
	require.Error(t, verdict.Err)
	assert.Equal(t, domain.KindPermanent, domain.Classify(verdict.Err))

	var abort *PipelineAbort
	require.ErrorAs(t, verdict.Err, &abort)
	assert.Equal(t, "a", abort.StepID)
}

type fakeInvokerPermanent struct{}

func (f *fakeInvokerPermanent) Invoke(ctx context.Context, address string, args value.Value, timeout time.Duration) (value.Value, error) {
	return value.Null(), &invoker.InvocationError{Address: address, Retryable: false, Cause: assertErr{}}
}

type assertErr struct{}

func (assertErr) Error() string { return "permanent tool failure" }

func TestRun_DuplicateStepIDsRejected(t *testing.T) {
	ex := New(invoker.NewSimulating(), silentLogger())
	pipeline := domain.Pipeline{
		Steps: []domain.Step{
			{ID: "a", Uses: "echo"},
			{ID: "a", Uses: "echo"},
		},
	}
	_, verdict := ex.Run(context.Background(), pipeline, time.Now(), value.Null())
	require.Error(t, verdict.Err)
	assert.ErrorIs(t, verdict.Err, domain.ErrDuplicateStepID)
}
