package pipefile

import (
	"testing"

	"github.com/dosco/graphjin/aggregate/v3"
	"github.com/dosco/graphjin/aggregate/v3/codec"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, src string) string {
	t.Helper()
	p, err := Parse([]byte(src))
	require.NoError(t, err)

	docs, err := p.Compile()
	require.NoError(t, err)

	out, err := aggregate.ExtJSON(docs)
	require.NoError(t, err)
	return out
}

func TestParseStages(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			"group",
			`
collection: books
stages:
  - group: {_id: $author, count: {$sum: 1}}
`,
			`[{"$group":{"_id":"$author","count":{"$sum":1}}}]`,
		},
		{
			"null group id and count accumulator",
			`
collection: books
stages:
  - group:
      _id: null
      n: {$count: {}}
      titles: {$push: $title}
`,
			`[{"$group":{"_id":null,"n":{"$count":{}},"titles":{"$push":"$title"}}}]`,
		},
		{
			"match project sort limit",
			`
collection: books
stages:
  - match: {year: {$gte: 1900}}
  - project: {title: 1, author: true, _id: 0}
  - sort: {year: -1, title: 1}
  - skip: 5
  - limit: 2
`,
			`[{"$match":{"year":{"$gte":1900}}},{"$project":{"title":1,"author":1,"_id":0}},{"$sort":{"year":-1,"title":1}},{"$skip":5},{"$limit":2}]`,
		},
		{
			"computed fields",
			`
collection: books
stages:
  - project:
      title: 1
      label: {$concat: [$title, " by ", $author]}
  - addFields:
      total: {$add: [$price, 5]}
      tags: [$genre, classic]
`,
			`[{"$project":{"title":1,"label":{"$concat":["$title"," by ","$author"]}}},{"$addFields":{"total":{"$add":["$price",5]},"tags":["$genre","classic"]}}]`,
		},
		{
			"bucket with output mapping",
			`
collection: books
stages:
  - bucket:
      groupBy: $price
      boundaries: [0, 200]
      default: Other
      output:
        count: {$sum: 1}
`,
			`[{"$bucket":{"groupBy":"$price","boundaries":[0,200],"default":"Other","count":{"$sum":1}}}]`,
		},
		{
			"flattened bucket output",
			`
collection: books
stages:
  - bucket: {groupBy: $price, boundaries: [0, 200], count: {$sum: 1}}
  - bucketAuto: {groupBy: $year, buckets: 4, granularity: R5}
`,
			`[{"$bucket":{"groupBy":"$price","boundaries":[0,200],"count":{"$sum":1}}},{"$bucketAuto":{"groupBy":"$year","buckets":4,"granularity":"R5"}}]`,
		},
		{
			"lookups",
			`
collection: employees
stages:
  - lookup: {from: depts, localField: dept_id, foreignField: _id, as: dept}
  - graphLookup:
      from: employees
      startWith: $reportsTo
      connectFromField: reportsTo
      connectToField: name
      as: chain
      maxDepth: 2
`,
			`[{"$lookup":{"from":"depts","localField":"dept_id","foreignField":"_id","as":"dept"}},{"$graphLookup":{"from":"employees","startWith":"$reportsTo","connectFromField":"reportsTo","connectToField":"name","as":"chain","maxDepth":2}}]`,
		},
		{
			"unwind count out",
			`
collection: books
stages:
  - unwind: $tags
  - unwind: {path: $authors, preserveNullAndEmptyArrays: true}
  - sample: {size: 3}
  - replaceRoot: {newRoot: $meta}
  - count: total
  - out: {db: reports, coll: totals}
`,
			`[{"$unwind":"$tags"},{"$unwind":{"path":"$authors","preserveNullAndEmptyArrays":true}},{"$sample":{"size":3}},{"$replaceRoot":{"newRoot":"$meta"}},{"$count":"total"},{"$out":{"db":"reports","coll":"totals"}}]`,
		},
		{
			"escaped literal",
			`
collection: prices
stages:
  - addFields: {currency: {$literal: $USD}}
`,
			`[{"$addFields":{"currency":{"$literal":"$USD"}}}]`,
		},
		{
			"dollar prefixed stage names",
			`
collection: books
stages:
  - $limit: 1
`,
			`[{"$limit":1}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compile(t, tt.src))
		})
	}
}

func TestParseOptions(t *testing.T) {
	p, err := Parse([]byte(`
collection: books
options:
  allow_disk_use: true
  batch_size: 50
  comment: nightly
  collation: {locale: fr, strength: 2, numeric_ordering: true}
stages:
  - limit: 1
`))
	require.NoError(t, err)

	assert.Equal(t, "books", p.Collection())
	assert.Equal(t, aggregate.Options{
		AllowDiskUse: true,
		BatchSize:    50,
		Comment:      "nightly",
		Collation: &aggregate.Collation{
			Locale:          "fr",
			Strength:        aggregate.Secondary,
			NumericOrdering: true,
		},
	}, p.Options())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"no collection", "stages: []", "collection is required"},
		{"unknown stage", "collection: c\nstages:\n  - facet: {}", `unknown stage "facet"`},
		{"two keys", "collection: c\nstages:\n  - {limit: 1, skip: 1}", "exactly one key"},
		{"bad sort", "collection: c\nstages:\n  - sort: {a: 2}", "sort order must be 1 or -1"},
		{"bad limit", "collection: c\nstages:\n  - limit: ten", "expected an integer"},
		{"bad yaml", "collection: [", "pipefile:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParseNonAccumulatorGroupField(t *testing.T) {
	_, err := Parse([]byte(`
collection: books
stages:
  - group: {_id: $author, total: {$add: [$a, $b]}}
`))
	require.Error(t, err)

	var pe *codec.InvalidExpressionPlacementError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "$add", pe.Operator)
	assert.Equal(t, "total", pe.Path)
}

func TestStageErrorsSurfaceAtCompile(t *testing.T) {
	p, err := Parse([]byte(`
collection: books
stages:
  - lookup: {from: authors, as: author}
`))
	require.NoError(t, err)

	_, err = p.Compile()
	assert.True(t, codec.IsMalformedStage(err))
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/pipelines/top.yml", []byte(`
collection: books
stages:
  - sort: {count: -1}
  - limit: 10
`), 0o644))

	p, err := Load(fs, "/pipelines/top.yml")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())

	_, err = Load(fs, "/pipelines/missing.yml")
	assert.Error(t, err)
}
