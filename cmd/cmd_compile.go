package main

import (
	"fmt"
	"io"

	"github.com/dosco/graphjin/aggregate/v3"
	"github.com/dosco/graphjin/aggregate/v3/internal/pipefile"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func compileCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "compile <pipeline.yml>",
		Short: "Compile a pipeline file and print its stages",
		Long: `Compile a pipeline file into the stage documents sent to MongoDB
and print them as a relaxed Extended JSON array, ready to paste into
db.collection.aggregate() in the mongo shell.`,
		Args: cobra.ExactArgs(1),
		Run:  cmdCompile,
	}
	return c
}

func cmdCompile(cmd *cobra.Command, args []string) {
	setup(cpath)

	if err := compilePipeline(cmd.OutOrStdout(), fs, args[0]); err != nil {
		log.Fatal(err)
	}
}

func compilePipeline(w io.Writer, fs afero.Fs, path string) error {
	p, err := pipefile.Load(fs, path)
	if err != nil {
		return err
	}

	docs, err := p.Compile()
	if err != nil {
		return err
	}

	out, err := aggregate.ExtJSON(docs)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
