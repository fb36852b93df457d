package aggregate_test

import (
	"bytes"
	"testing"

	"github.com/dosco/graphjin/aggregate/v3"
	"github.com/dosco/graphjin/aggregate/v3/codec"
	"github.com/dosco/graphjin/aggregate/v3/expr"
	"github.com/dosco/graphjin/aggregate/v3/mapper"
	"github.com/dosco/graphjin/aggregate/v3/stage"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"
)

type Book struct {
	Title  string `bson:"title"`
	Author string `bson:"author"`
	Price  int    `bson:"price"`
}

func TestCompileGolden(t *testing.T) {
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))

	tests := []struct {
		name string
		p    aggregate.Pipeline
	}{
		{
			"group_by_author",
			aggregate.New("books",
				stage.NewGroup(stage.ID("author")).Field("count", expr.Sum(expr.Literal(1)))),
		},
		{
			"bucket_by_price",
			aggregate.New("books",
				stage.NewBucket().
					GroupBy(expr.Field("price")).
					Boundaries(expr.Literal(0), expr.Literal(200)).
					Output("count", expr.Sum(expr.Literal(1)))),
		},
		{
			"top_titles",
			aggregate.New("books",
				stage.MatchOn(bson.D{{Key: "year", Value: bson.D{{Key: "$gte", Value: 1900}}}}),
				stage.Project().Include("title", "author").SuppressID(),
				stage.SortOn().Ascending("title"),
				stage.LimitOf(2)),
		},
		{
			"books_with_author",
			aggregate.New("books",
				stage.LookupFrom("authors").LocalField("author_id").ForeignField("_id").As("author"),
				stage.UnwindOn("author"),
				stage.NewAddFields().Field("authorName", expr.Field("author.name")),
				stage.Project().Exclude("author"),
				stage.SkipOf(10),
				stage.LimitOf(5)),
		},
		{
			"price_report",
			aggregate.New("books",
				stage.NewAutoBucket().GroupBy(expr.Field("price")).Buckets(3).
					Output("titles", expr.Push(expr.Field("title"))),
				stage.CountInto("buckets")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := tt.p.Compile()
			require.NoError(t, err)
			out, err := aggregate.ExtJSON(docs)
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(out+"\n"))
		})
	}
}

func TestEmptyPipeline(t *testing.T) {
	docs, err := aggregate.New("books").Compile()
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	out, err := aggregate.ExtJSON(docs)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestCompileIsAllOrNothing(t *testing.T) {
	p := aggregate.New("books",
		stage.LimitOf(1),
		stage.LookupFrom("authors").LocalField("author_id"))

	docs, err := p.Compile()
	assert.Nil(t, docs)
	require.Error(t, err)
	assert.True(t, codec.IsMalformedStage(err))
	assert.Contains(t, err.Error(), "stage 1 ($lookup)")
}

func TestCompileEncodeFailure(t *testing.T) {
	p := aggregate.New("books",
		stage.LimitOf(1),
		stage.MatchOn(bson.D{{Key: "when", Value: make(chan int)}}))

	docs, err := p.Compile()
	assert.Nil(t, docs)

	var ute *aggregate.UnsupportedTypeError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "$match", ute.Stage)
	assert.Equal(t, "when", ute.Path)
}

func TestCompileNilStage(t *testing.T) {
	_, err := aggregate.New("books").Then(stage.Stage(nil)).Compile()
	var me *aggregate.MalformedStageError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "stages[0]", me.Field)
}

func TestCompileIsDeterministic(t *testing.T) {
	p := aggregate.New("books",
		stage.MatchOn(bson.M{"c": 1, "a": 2, "b": 3}),
		stage.NewGroup(stage.ID("author")).
			Field("total", expr.Sum(expr.Field("price"))).
			Field("max", expr.Max(expr.Field("price"))))

	first, err := p.Compile()
	require.NoError(t, err)

	for range 10 {
		again, err := p.Compile()
		require.NoError(t, err)
		require.Len(t, again, len(first))
		for i := range first {
			assert.True(t, bytes.Equal(first[i], again[i]))
		}
	}
}

func TestConcurrentCompile(t *testing.T) {
	c, err := aggregate.NewCompiler()
	require.NoError(t, err)

	p := aggregate.New("books",
		stage.NewGroup(stage.ID("author")).Field("count", expr.Sum(expr.Literal(1))),
		stage.SortOn().Descending("count"))

	want, err := c.Compile(p)
	require.NoError(t, err)

	var g errgroup.Group
	results := make([][]bson.Raw, 16)
	for i := range results {
		g.Go(func() error {
			docs, err := c.Compile(p)
			results[i] = docs
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, docs := range results {
		assert.Equal(t, want, docs)
	}
}

func TestPipelineIsImmutable(t *testing.T) {
	base := aggregate.New("books", stage.LimitOf(1))
	a := base.Then(stage.SkipOf(1))
	b := base.Then(stage.SortOn().Ascending("title"))

	assert.Equal(t, 1, base.Len())
	require.Equal(t, 2, a.Len())
	require.Equal(t, 2, b.Len())
	assert.Equal(t, stage.NameSkip, a.Stages()[1].Name())
	assert.Equal(t, stage.NameSort, b.Stages()[1].Name())

	// Stages returns a copy
	stages := a.Stages()
	stages[0] = stage.SkipOf(5)
	assert.Equal(t, stage.NameLimit, a.Stages()[0].Name())
}

func TestPipelineStage(t *testing.T) {
	p := aggregate.New("books",
		stage.MatchOn(bson.D{}),
		stage.NewGroup(nil),
		stage.LimitOf(3))

	s, ok := p.Stage("group")
	require.True(t, ok)
	assert.IsType(t, stage.Group{}, s)

	s, ok = p.Stage("$limit")
	require.True(t, ok)
	assert.Equal(t, stage.LimitOf(3), s)

	_, ok = p.Stage("out")
	assert.False(t, ok)
}

func TestRequest(t *testing.T) {
	m := mapper.New()
	mapper.Map[Book](m)

	c, err := aggregate.NewCompiler(aggregate.WithResolver(m))
	require.NoError(t, err)

	opts := aggregate.Options{
		AllowDiskUse: true,
		Collation:    &aggregate.Collation{Locale: "fr", Strength: aggregate.Secondary},
	}
	req, err := c.Request(aggregate.For[Book](stage.LimitOf(1)).WithOptions(opts))
	require.NoError(t, err)
	assert.Equal(t, "book", req.Collection)
	assert.Len(t, req.Stages, 1)
	assert.Equal(t, opts, req.Options)

	// options are never written into the stages
	out, err := aggregate.ExtJSON(req.Stages)
	require.NoError(t, err)
	assert.Equal(t, `[{"$limit":1}]`, out)
}

func TestRequestWithoutCollection(t *testing.T) {
	_, err := aggregate.For[Book]().Compile()
	require.NoError(t, err)

	c, err := aggregate.NewCompiler()
	require.NoError(t, err)

	_, err = c.Request(aggregate.For[Book]())
	assert.ErrorIs(t, err, codec.ErrNoResolver)

	_, err = c.Request(aggregate.Pipeline{})
	assert.Error(t, err)
}

func TestNewCompilerOptions(t *testing.T) {
	_, err := aggregate.NewCompiler(aggregate.WithRegistry(nil))
	assert.Error(t, err)

	reg := aggregate.NewRegistry()
	c, err := aggregate.NewCompiler(aggregate.WithRegistry(reg))
	require.NoError(t, err)
	assert.Same(t, reg, c.Registry())
}

func TestZeroValueCompiler(t *testing.T) {
	var c aggregate.Compiler
	assert.NotNil(t, c.Registry())

	docs, err := c.Compile(aggregate.New("books", stage.LimitOf(2)))
	require.NoError(t, err)
	out, err := aggregate.ExtJSON(docs)
	require.NoError(t, err)
	assert.Equal(t, `[{"$limit":2}]`, out)

	_, err = c.CollectionName(aggregate.For[struct{ Title string }]())
	assert.ErrorIs(t, err, codec.ErrNoResolver)
}

func TestCustomRegistryEncoder(t *testing.T) {
	type isbn string

	reg := aggregate.NewRegistry()
	codec.RegisterType(reg, func(_ codec.Context, vw bson.ValueWriter, v isbn) error {
		return vw.WriteString("isbn:" + string(v))
	})

	c, err := aggregate.NewCompiler(aggregate.WithRegistry(reg))
	require.NoError(t, err)

	docs, err := c.Compile(aggregate.New("books",
		stage.MatchOn(bson.D{{Key: "isbn", Value: isbn("123")}})))
	require.NoError(t, err)

	out, err := aggregate.ExtJSON(docs)
	require.NoError(t, err)
	assert.Equal(t, `[{"$match":{"isbn":"isbn:123"}}]`, out)

	// without the encoder a filter falls back to the driver's string codec
	docs, err = aggregate.New("books", stage.MatchOn(bson.D{{Key: "isbn", Value: isbn("123")}})).Compile()
	require.NoError(t, err)
	out, err = aggregate.ExtJSON(docs)
	require.NoError(t, err)
	assert.Equal(t, `[{"$match":{"isbn":"123"}}]`, out)

	// expressions stay strict
	_, err = aggregate.New("books",
		stage.NewAddFields().Field("isbn", expr.Literal(isbn("123")))).Compile()
	assert.True(t, codec.IsUnsupportedType(err))
}
