/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// prompter reads answers line by line. Sharing one prompter keeps buffered
// input from being lost between questions.
type prompter struct {
	r *bufio.Reader
	w io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{r: bufio.NewReader(in), w: out}
}

// ask prints question and returns the trimmed answer. It returns io.EOF only
// when the input ended before anything was typed.
func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.w, question)

	line, err := p.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// askInt asks for a positive integer, returning def on an empty answer.
func (p *prompter) askInt(question string, def int) (int, error) {
	answer, err := p.ask(fmt.Sprintf("%s [%d]: ", question, def))
	if err != nil {
		return 0, err
	}
	if answer == "" {
		return def, nil
	}

	n, err := strconv.Atoi(answer)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%q is not a positive number", answer)
	}
	return n, nil
}
