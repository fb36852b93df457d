package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dosco/graphjin/aggregate/v3"
	"github.com/dosco/graphjin/aggregate/v3/internal/pipefile"
	"github.com/dosco/graphjin/aggregate/v3/mongodriver"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func runCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "run <pipeline.yml> [pipeline.yml...]",
		Short: "Run pipeline files against MongoDB",
		Long: `Compile and run one or more pipeline files against the configured
database, printing every result document as relaxed Extended JSON on its
own line. Several files are run concurrently.`,
		Args: cobra.MinimumNArgs(1),
		Run:  cmdRun,
	}
	return c
}

func fieldsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "fields <collection>",
		Short: "Sample a collection and list its top level fields",
		Args:  cobra.ExactArgs(1),
		Run:   cmdFields,
	}
	c.Flags().Int("size", 100, "Number of documents to sample")
	return c
}

func cmdRun(cmd *cobra.Command, args []string) {
	setup(cpath)

	ctx, cancel := context.WithTimeout(cmd.Context(), conf.Mongo.Timeout)
	defer cancel()

	conn, client, err := connect()
	if err != nil {
		log.Fatalf("Failed to connect to database: %s", err)
	}
	defer client.Disconnect(context.Background()) //nolint:errcheck

	if err := runPipelines(ctx, cmd.OutOrStdout(), conn, fs, args); err != nil {
		log.Fatal(err)
	}
}

func cmdFields(cmd *cobra.Command, args []string) {
	setup(cpath)

	size, _ := cmd.Flags().GetInt("size")

	ctx, cancel := context.WithTimeout(cmd.Context(), conf.Mongo.Timeout)
	defer cancel()

	conn, client, err := connect()
	if err != nil {
		log.Fatalf("Failed to connect to database: %s", err)
	}
	defer client.Disconnect(context.Background()) //nolint:errcheck

	fields, err := conn.SampleFields(ctx, args[0], size)
	if err != nil {
		log.Fatal(err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tTYPE\tSEEN")
	for _, f := range fields {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", f.Name, f.BSONType, f.Seen)
	}
	tw.Flush()
}

// connect opens a client for the configured database
func connect() (*mongodriver.Conn, *mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(conf.Mongo.URI))
	if err != nil {
		return nil, nil, err
	}

	conn, err := mongodriver.NewConn(client, conf.Mongo.Database,
		mongodriver.WithLogger(log.Desugar()),
		mongodriver.WithHandleCacheSize(conf.Aggregate.HandleCacheSize),
		mongodriver.WithParallelism(conf.Aggregate.Parallelism))
	if err != nil {
		client.Disconnect(context.Background()) //nolint:errcheck
		return nil, nil, err
	}
	return conn, client, nil
}

// runPipelines runs one pipeline through a typed cursor, or several at
// once through AggregateMany
func runPipelines(ctx context.Context, w io.Writer, conn *mongodriver.Conn, fs afero.Fs, paths []string) error {
	pipelines := make([]aggregate.Pipeline, 0, len(paths))
	for _, path := range paths {
		p, err := pipefile.Load(fs, path)
		if err != nil {
			return err
		}
		pipelines = append(pipelines, p.WithOptions(conf.applyDefaults(p.Options())))
	}

	if len(pipelines) == 1 {
		docs, err := mongodriver.Run[bson.Raw](ctx, conn, pipelines[0])
		if err != nil {
			return err
		}
		return printDocs(w, docs)
	}

	reqs := make([]aggregate.Request, 0, len(pipelines))
	for i, p := range pipelines {
		req, err := conn.Compiler().Request(p)
		if err != nil {
			return fmt.Errorf("%s: %w", paths[i], err)
		}
		reqs = append(reqs, req)
	}

	results, err := conn.AggregateMany(ctx, reqs)
	if err != nil {
		return err
	}
	for i, docs := range results {
		log.Infof("%s: %d documents", paths[i], len(docs))
		if err := printDocs(w, docs); err != nil {
			return err
		}
	}
	return nil
}

func printDocs(w io.Writer, docs []bson.Raw) error {
	for _, d := range docs {
		b, err := bson.MarshalExtJSON(d, false, false)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(b)); err != nil {
			return err
		}
	}
	return nil
}
