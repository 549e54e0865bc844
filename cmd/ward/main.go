// Command ward runs command lines and trigger scripts through the ward queue.
package main

func main() {
	Execute()
}
