// Command askablectl inspects and maintains the stores behind the Askable
// API: chats, message quotas and the model catalog.
package main

func main() {
	Execute()
}
