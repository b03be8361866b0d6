package script

// DefaultSource is the built-in script: a lowercase word count over
// letters and digits.
const DefaultSource = `
function map(line) {
	var out = [];
	var words = line.toLowerCase().split(/[^\p{L}\p{N}]+/u);
	for (var i = 0; i < words.length; i++) {
		if (words[i] !== "") {
			out.push([words[i], 1]);
		}
	}
	return out;
}

function reduce(key, values) {
	return values.length;
}
`
