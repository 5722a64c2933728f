package main

import "github.com/aws-samples/genai-ml-platform-examples-sub000/internal/cli"

func main() {
	cli.Execute()
}
