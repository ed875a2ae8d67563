package main

import "github.com/shouni/go-forecast-scraper/cmd"

func main() {
	cmd.Execute()
}
