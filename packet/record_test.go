package packet

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func encodeRecord(t *testing.T, r Record, pool *StringPool) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw := NewFieldWriter(&buf)
	r.Encode(fw, pool)
	require.NoError(t, fw.Err())
	return buf.Bytes()
}

func TestThreadInfoRoundTripFastAndSlow(t *testing.T) {
	pool := NewStringPool()
	want := &ThreadInfo{
		ID: uuid.New(), Index: 7, ThreadID: 1234, Name: "worker", Domain: "AppDomain",
		IsBackground: true, IsThreadPoolThread: false,
	}
	payload := encodeRecord(t, want, pool)

	fast := &ThreadInfo{}
	fast.DecodeFast(NewFieldReader(bytes.NewReader(payload)), pool)
	require.Equal(t, want.ID, fast.ID)
	require.Equal(t, want.Name, fast.Name)
	require.Equal(t, want.Index, fast.Index)

	slow := &ThreadInfo{}
	m := ReadFieldsByDefinition(NewFieldReader(bytes.NewReader(payload)), want.Schema())
	require.NoError(t, slow.FromFields(m, pool))
	require.Equal(t, fast, slow)
}

func TestApplicationUserEqualityKeyThenName(t *testing.T) {
	a := &ApplicationUser{Key: "u@x", FullyQualifiedUserName: "alice"}
	b := &ApplicationUser{Key: "U@X", FullyQualifiedUserName: "bob"}
	require.True(t, a.Equal(b), "same key, different name must still be equal")

	c := &ApplicationUser{Key: "", FullyQualifiedUserName: "alice"}
	d := &ApplicationUser{Key: "", FullyQualifiedUserName: "ALICE"}
	require.True(t, c.Equal(d), "both keys empty, names match case-insensitively")

	e := &ApplicationUser{Key: "u1", FullyQualifiedUserName: "alice"}
	f := &ApplicationUser{Key: "u2", FullyQualifiedUserName: "alice"}
	require.False(t, e.Equal(f), "distinct non-empty keys are never equal, even with matching names")
}

func TestExceptionInfoChainRoundTrip(t *testing.T) {
	chain := &ExceptionFrame{
		TypeName: "System.IOException", Message: "disk full",
		Inner: &ExceptionFrame{TypeName: "System.Exception", Message: "inner"},
	}
	info := ExceptionInfoFromChain(chain)
	require.Equal(t, []string{"System.IOException", "System.Exception"}, info.TypeNames)

	rebuilt := info.Chain()
	require.Equal(t, "System.IOException", rebuilt.TypeName)
	require.Equal(t, "System.Exception", rebuilt.Inner.TypeName)
	require.Nil(t, rebuilt.Inner.Inner)

	empty := ExceptionInfoFromChain(nil)
	require.NotNil(t, empty.TypeNames)
	require.Equal(t, 0, empty.Len())
	require.Nil(t, empty.Chain())
}

func TestLogMessageMessageMemoization(t *testing.T) {
	m := &LogMessage{Caption: "low disk", Description: "free space below threshold"}
	require.Equal(t, "low disk\nfree space below threshold", m.Message())

	onlyCaption := &LogMessage{Caption: "oops"}
	require.Equal(t, "oops", onlyCaption.Message())

	empty := &LogMessage{}
	require.Equal(t, "", empty.Message())
	// mutate after memoization: cached value must stick (sentinel guards
	// a legitimately-empty computed value from being recomputed).
	empty.Caption = "too late"
	require.Equal(t, "", empty.Message())
}

func TestLogMessageRoundTripAndRequiredPackets(t *testing.T) {
	pool := NewStringPool()
	userID := uuid.New()
	msg := &LogMessage{
		ID: uuid.New(), Severity: SeverityWarning, Category: "disk",
		Caption: "low disk", ThreadIndex: 7, ThreadID: 42,
		ApplicationUserID: userID,
		Exceptions: ExceptionInfoFromChain(&ExceptionFrame{TypeName: "E", Message: "m"}),
	}
	deps := msg.RequiredPackets()
	require.Len(t, deps, 2)
	require.Equal(t, ThreadInfoTypeName, deps[0].TypeName)
	require.True(t, deps[0].UsesIndex)
	require.Equal(t, int32(7), deps[0].Index)
	require.Equal(t, ApplicationUserTypeName, deps[1].TypeName)
	require.Equal(t, userID, deps[1].ID)

	payload := encodeRecord(t, msg, pool)
	fast := &LogMessage{}
	fast.DecodeFast(NewFieldReader(bytes.NewReader(payload)), pool)
	require.True(t, msg.Equal(fast))

	slow := &LogMessage{}
	fm := ReadFieldsByDefinition(NewFieldReader(bytes.NewReader(payload)), msg.Schema())
	require.NoError(t, slow.FromFields(fm, pool))
	require.True(t, msg.Equal(slow))
}

func TestLogMessageThreadIndexZeroFallback(t *testing.T) {
	m := &LogMessage{ThreadIndex: 0, ThreadID: 99}
	idx, useID := m.ResolveThreadIndex()
	require.True(t, useID)
	require.Equal(t, int32(0), idx)

	m2 := &LogMessage{ThreadIndex: 3, ThreadID: 99}
	idx2, useID2 := m2.ResolveThreadIndex()
	require.False(t, useID2)
	require.Equal(t, int32(3), idx2)
}

func TestSessionSummaryV4RoundTripWithDynamicProperties(t *testing.T) {
	pool := NewStringPool()
	start := NewDateTimeOffset(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	want := &SessionSummary{
		ID: uuid.New(), Caption: "session one", Status: "Running",
		StartDateTime: start, Product: "Agent", Application: "svc",
		ApplicationVersion: "1.2.3", CommandLine: "svc.exe --run",
		CurrentCultureName: "en-US", CurrentUICultureName: "en-US",
		Properties: map[string]string{"build": "ci-412", "region": "us-east"},
	}
	payload := encodeRecord(t, want, pool)

	fast := &SessionSummary{}
	fast.DecodeFast(NewFieldReader(bytes.NewReader(payload)), pool)
	require.Equal(t, want.ID, fast.ID)
	require.Equal(t, want.CommandLine, fast.CommandLine)
	require.Equal(t, want.Properties, fast.Properties)

	slow := &SessionSummary{}
	fm := ReadFieldsByDefinition(NewFieldReader(bytes.NewReader(payload)), want.Schema())
	require.NoError(t, slow.FromFields(fm, pool))
	require.Equal(t, want.Properties, slow.Properties)
	require.Equal(t, want.CurrentUICultureName, slow.CurrentUICultureName)
}

func TestSessionSummaryV4FieldOrderPreservesPaddingBeforeDynamicBlock(t *testing.T) {
	schema := (&SessionSummary{}).Schema()
	names := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		names[i] = f.Name
	}
	n := len(names)
	require.Equal(t, []string{"CommandLine", "CurrentCultureName", "CurrentUICultureName", "PropertyNames", "PropertyValues"}, names[n-5:])
}

func TestSessionSummaryPreV4BaselineTruncatesFields(t *testing.T) {
	v1 := SchemaForVersion(SummaryVersion1)
	require.Equal(t, SummaryVersion1, v1.Version)
	require.Len(t, v1.Fields, summaryBaselineCount[SummaryVersion1])
	for _, f := range v1.Fields {
		require.NotEqual(t, "CommandLine", f.Name)
	}
}

func TestMetricDefinitionEventRoundTrip(t *testing.T) {
	pool := NewStringPool()
	def := &MetricDefinition{
		ID: uuid.New(), Kind: MetricKindEvent, MetricTypeName: "Orders", CategoryName: "Sales",
		CounterName: "OrderPlaced", Caption: "Order Placed",
		Values: []EventMetricValueDefinition{
			{Name: "Amount", Type: FieldDouble, Caption: "Amount"},
			{Name: "SKU", Type: FieldString, Caption: "SKU"},
		},
	}
	payload := encodeRecord(t, def, pool)
	got := &MetricDefinition{}
	got.DecodeFast(NewFieldReader(bytes.NewReader(payload)), pool)
	require.Equal(t, def.Values, got.Values)
	require.Equal(t, MetricKindEvent, got.Kind)
}

func TestEventMetricSampleDynamicRoundTrip(t *testing.T) {
	pool := NewStringPool()
	def := &MetricDefinition{
		ID: uuid.New(), Kind: MetricKindEvent,
		Values: []EventMetricValueDefinition{
			{Name: "Amount", Type: FieldDouble},
			{Name: "SKU", Type: FieldString},
		},
	}
	sample := &EventMetricSample{
		ID: uuid.New(), MetricID: uuid.New(),
		Values: map[string]any{"Amount": 19.99, "SKU": "WIDGET-1"},
	}
	var buf bytes.Buffer
	fw := NewFieldWriter(&buf)
	sample.Encode(fw, pool, def)
	require.NoError(t, fw.Err())

	got := &EventMetricSample{}
	got.DecodeDynamicFast(NewFieldReader(&buf), pool, def)
	require.Equal(t, sample.ID, got.ID)
	require.Equal(t, 19.99, got.Values["Amount"])
	require.Equal(t, "WIDGET-1", got.Values["SKU"])
}

func TestMetricSampleRequiredPackets(t *testing.T) {
	metricID := uuid.New()
	s := &MetricSample{MetricID: metricID}
	deps := s.RequiredPackets()
	require.Len(t, deps, 1)
	require.Equal(t, MetricTypeName, deps[0].TypeName)
	require.Equal(t, metricID, deps[0].ID)
}

func TestFactoryDispatch(t *testing.T) {
	f := NewFactory()
	r, err := f.Build(LogMessageTypeName)
	require.NoError(t, err)
	_, ok := r.(*LogMessage)
	require.True(t, ok)

	_, err = f.Build("NoSuchType")
	require.ErrorIs(t, err, ErrUnknownType)
}
