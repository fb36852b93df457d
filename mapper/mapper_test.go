package mapper_test

import (
	"reflect"
	"testing"

	"github.com/dosco/graphjin/aggregate/v3"
	"github.com/dosco/graphjin/aggregate/v3/mapper"
	"github.com/dosco/graphjin/aggregate/v3/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type Artwork struct {
	Title string `bson:"title"`
	Year  int    `bson:"year,omitempty"`
}

type URLMap struct{}

type ID struct{}

type xmlDoc struct{}

type Person struct{}

func (Person) CollectionName() string { return "people" }

type Invoice struct{}

func (*Invoice) CollectionName() string { return "billing.invoices" }

func TestDefaultCollectionName(t *testing.T) {
	tests := []struct {
		t    reflect.Type
		want string
	}{
		{reflect.TypeFor[Artwork](), "artwork"},
		{reflect.TypeFor[*Artwork](), "artwork"},
		{reflect.TypeFor[URLMap](), "urlMap"},
		{reflect.TypeFor[ID](), "id"},
		{reflect.TypeFor[xmlDoc](), "xmlDoc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapper.DefaultCollectionName(tt.t))
	}
}

func TestMap(t *testing.T) {
	m := mapper.New()

	assert.Equal(t, "artwork", mapper.Map[Artwork](m).Collection)
	assert.Equal(t, "people", mapper.Map[Person](m).Collection)
	assert.Equal(t, "billing.invoices", mapper.Map[Invoice](m).Collection)
	assert.Equal(t, "links", mapper.Map[URLMap](m, mapper.WithCollection("links")).Collection)

	name, err := m.ResolveCollection(reflect.TypeFor[*Artwork]())
	require.NoError(t, err)
	assert.Equal(t, "artwork", name)

	var names []string
	for _, e := range m.Entities() {
		names = append(names, e.Collection)
	}
	assert.Equal(t, []string{"artwork", "billing.invoices", "links", "people"}, names)
}

func TestMapTypeIndirectsPointers(t *testing.T) {
	m := mapper.New()
	e := m.MapType(reflect.TypeFor[**Artwork]())
	assert.Equal(t, reflect.TypeFor[Artwork](), e.Type)
}

func TestMapNilType(t *testing.T) {
	m := mapper.New()
	assert.NotPanics(t, func() {
		assert.Equal(t, mapper.Entity{}, m.MapType(nil))
	})
	assert.Empty(t, m.Entities())
	assert.Empty(t, mapper.DefaultCollectionName(nil))

	_, err := m.ResolveCollection(nil)
	var ue *mapper.UnmappedTypeError
	assert.ErrorAs(t, err, &ue)
}

func TestRemapReplaces(t *testing.T) {
	m := mapper.New()
	mapper.Map[Artwork](m)
	mapper.Map[Artwork](m, mapper.WithCollection("art"))

	name, err := m.ResolveCollection(reflect.TypeFor[Artwork]())
	require.NoError(t, err)
	assert.Equal(t, "art", name)
	assert.Len(t, m.Entities(), 1)
}

func TestUnmappedType(t *testing.T) {
	_, err := mapper.New().ResolveCollection(reflect.TypeFor[Artwork]())

	var ue *mapper.UnmappedTypeError
	require.ErrorAs(t, err, &ue)
	assert.EqualError(t, err, "mapper: type mapper_test.Artwork is not mapped to a collection")
}

func TestRegisterEntityEncoder(t *testing.T) {
	m := mapper.New()
	mapper.Map[Artwork](m)

	reg := aggregate.NewRegistry()
	m.Register(reg)

	c, err := aggregate.NewCompiler(aggregate.WithRegistry(reg), aggregate.WithResolver(m))
	require.NoError(t, err)

	docs, err := c.Compile(aggregate.New("archive",
		stage.MatchOn(bson.D{{Key: "$expr", Value: bson.D{{Key: "$eq", Value: bson.A{"$$ROOT", Artwork{Title: "Nighthawks"}}}}}}),
		stage.OutOf[Artwork]()))
	require.NoError(t, err)

	out, err := aggregate.ExtJSON(docs)
	require.NoError(t, err)
	assert.Equal(t,
		`[{"$match":{"$expr":{"$eq":["$$ROOT",{"title":"Nighthawks"}]}}},{"$out":"artwork"}]`,
		out)
}
