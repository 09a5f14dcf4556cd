package services

import (
	"fmt"
	"strings"
)

const (
	promptSampleRows = 3
	noHeaders        = "[NO HEADERS PROVIDED]"
)

var preinstalledPackages = []string{
	"aiohttp", "beautifulsoup4", "bokeh", "gensim", "imageio", "joblib", "librosa",
	"matplotlib", "nltk", "numpy", "opencv-python", "openpyxl", "pandas", "plotly",
	"pytest", "python-docx", "pytz", "requests", "scikit-image", "scikit-learn",
	"scipy", "seaborn", "soundfile", "spacy", "textblob", "tornado", "urllib3",
	"xarray", "xlrd", "sympy",
}

func joinColumns(headers []string) string {
	if len(headers) == 0 {
		return noHeaders
	}
	return strings.Join(headers, ", ")
}

// sampleTable renders up to three rows as a markdown table.
func sampleTable(headers []string, rows []map[string]string) string {
	if len(headers) == 0 || len(rows) == 0 {
		return ""
	}
	if len(rows) > promptSampleRows {
		rows = rows[:promptSampleRows]
	}

	var b strings.Builder
	b.WriteString("\n\nHere are a few sample rows from the dataset:\n\n")
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", len(headers)))
	for _, row := range rows {
		cells := make([]string, len(headers))
		for i, h := range headers {
			cells[i] = row[h]
		}
		b.WriteString("\n| " + strings.Join(cells, " | ") + " |")
	}
	return b.String()
}

// CodePrompt is the system prompt for analysis turns.
func CodePrompt(headers []string, rows []map[string]string) string {
	var b strings.Builder
	b.WriteString(`
You are an expert data scientist assistant that writes python code to answer questions about a dataset.

You are given a question about a dataset. The dataset has been pre-loaded into a pandas DataFrame called ` + "`df`" + `.

`)
	fmt.Fprintf(&b, "The dataset has the following columns: %s\n%s\n", joinColumns(headers), sampleTable(headers, rows))
	b.WriteString(`
You must always write python code that:
- Assumes the data is in a pandas DataFrame named ` + "`df`" + `. Do NOT try to load the data from a file.
- Uses the provided columns for analysis.
- Never outputs more than one graph per code response. If a question could be answered with multiple graphs, choose the most relevant or informative one and only output that single graph. This is to prevent slow output.
- When generating a graph, always consider how many values (bars, colors, lines, etc.) can be clearly displayed. Do not attempt to show thousands of values in a single graph; instead, limit the number of displayed values to a reasonable amount (e.g., 10-20) so the graph remains readable and informative. If there are too many categories or data points, select the most relevant or aggregate them appropriately.
- Never generate HTML output. Only use Python print statements or graphs/plots for output.

Always return the python code in a single unique code block.

Python sessions come pre-installed with the following dependencies, any other dependencies can be installed using a !pip install command in the python code.

`)
	for _, p := range preinstalledPackages {
		b.WriteString("- " + p + "\n")
	}
	return b.String()
}

func TitlePrompt(headers []string, question string) string {
	return fmt.Sprintf(`
You are an expert data scientist assistant that creates titles for chat conversations.

You are given a dataset and a question.

The dataset has the following columns: %s

The question from the user is: %s

Return ONLY the title of the chat conversation, with no quotes or extra text, and keep it super short (maximum 5 words). Do not return anything else.
`, joinColumns(headers), question)
}

func QuestionsPrompt(headers []string) string {
	return fmt.Sprintf(`You are an AI assistant that generates questions for data analysis.

Given the CSV columns: %s

Generate exactly 3 insightful questions that can be asked to analyze this data. Focus on questions that would reveal trends, comparisons, or insights.

Each question should be:
- Direct and concise
- Short enough to fit in a single row
- Without phrases like "in the dataset", "from the data", or "in the CSV file"

Return ONLY a JSON array of objects, each with "id" (unique string) and "text" (the question string). Do not include any other text, explanations, or the JSON schema.

Example format:
[{"id": "q1", "text": "What is the average price by category?"}, {"id": "q2", "text": "How many items sold per month?"}]

Do not wrap the array in any additional object or key like "elements". Return the array directly.`, strings.Join(headers, ", "))
}

// ErrorResolutionPrompt is the synthetic user turn sent after a failed run.
func ErrorResolutionPrompt(errMsg string) string {
	return fmt.Sprintf("The following error occurred when running the code you provided: %s. Please try to fix the code and try again.", errMsg)
}
